// Package schema validates the loosely typed maps that carry instance state,
// pack state, transition arguments and command input.
//
// A Schema maps field names to types:
//
//	s := schema.Schema{
//	    "topic":    schema.String(),
//	    "attempts": schema.Optional(schema.Int()),
//	    "tags":     schema.Slice(schema.String()),
//	}
//
// Validate checks a full value (every non-optional field must be present),
// ValidatePatch checks a partial update before it is merged. Schemas can be
// parsed from their textual form, which is also what they marshal to:
//
//	s, err := schema.ParseTypeMap(map[string]string{"topic": "string", "tags": "[string]?"})
//
// Typed inputs that prefer struct tags can go through ValidateStruct, which
// reports failures with the same ValidationError type.
package schema
