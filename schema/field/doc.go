// Package field provides column descriptors for mapped tables.
//
// A column is declared with a typed builder and finalized with Descriptor:
//
//	field.Int64("id").PrimaryKey()
//	field.String("title")
//	field.Int64("author_id").Nillable()
//	field.Time("published_at").Nillable()
//
// The Type of a column is metadata only. Converting values between Go and
// database types is left to the driver.
//
// # Nullability
//
//	// Nillable: nullable in the database; reads may return nil
//	field.String("nickname").Nillable()
//
// A primary key column is never nullable; PrimaryKey clears Nillable.
package field
