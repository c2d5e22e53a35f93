package main

import (
	"errors"
	"slices"
	"strings"
)

// Contact is the record type managed by the command line tool.
type Contact struct {
	Name  string   `json:"name" jsonschema:"description=Display name"`
	Email string   `json:"email" jsonschema:"description=Email address"`
	Age   int      `json:"age,omitempty" jsonschema:"description=Age in years"`
	Tags  []string `json:"tags,omitempty" jsonschema:"description=Free-form labels"`
}

// Clone returns a deep copy.
func (c Contact) Clone() Contact {
	c.Tags = slices.Clone(c.Tags)
	return c
}

// Validate checks the contact fields.
func (c *Contact) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("name is required")
	}
	if !strings.Contains(c.Email, "@") {
		return errors.New("email must contain @")
	}
	if c.Age < 0 {
		return errors.New("age must be non-negative")
	}
	return nil
}
