// Package jsondoc manages a single JSON document holding typed records and
// their metadata.
//
// # Overview
//
// [Manager] owns the in-memory copy of one [Document] and is the only writer
// of its backing file. The whole document is loaded on construction and every
// mutation rewrites the whole file before returning. There is no incremental
// patching and no write-behind.
//
// # File Format
//
//	{
//	  "metadata": {
//	    "version": "1.0.0",
//	    "title": "...",
//	    "description": "...",
//	    "storage": {"type": "file", "format": "json", "encryption": "none"},
//	    "timestamps": {"created_at": "...", "updated_at": "..."}
//	  },
//	  "records": {"1": {...}, "2": {...}}
//	}
//
// Decoding is strict: unknown keys at any level fail the load with
// [ErrDecode]. Records are kept in file order.
//
// # Durability
//
// Files are written to a temporary file and renamed over the target, so a
// crash mid-write leaves the previous version intact.
package jsondoc
