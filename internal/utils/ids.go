package utils

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewID returns a random record id such as "qtn_k3x9..." with the given prefix
func NewID(prefix string) string {
	id, err := gonanoid.Generate(idAlphabet, 20)
	if err != nil {
		panic(err)
	}
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
