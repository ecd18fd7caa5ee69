// Package schema holds the table descriptors that queries are built against.
//
// A Registry is declared once, validated, and then shared read-only by every
// query builder, compiler and session of the process:
//
//	reg := schema.MustRegistry(
//	    schema.NewTable("authors",
//	        field.Int64("id").PrimaryKey(),
//	        field.String("name"),
//	    ),
//	    schema.NewTable("books",
//	        field.Int64("id").PrimaryKey(),
//	        field.Int64("author_id"),
//	        field.String("title"),
//	    ).AddForeignKeys(
//	        schema.References("author_id", "authors"),
//	    ),
//	)
//
// The foreign key above gives books a to-one attribute "author" and authors
// a to-many back-reference "books". Both names can be set explicitly with
// ForeignKey.As and ForeignKey.BackRef.
//
// Registries can also be loaded from YAML with LoadYAML or LoadFile.
package schema
