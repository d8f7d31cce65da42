package id

import (
	"time"

	"github.com/pkg/errors"
	"github.com/ventu-io/go-shortid"
)

// Generator issues short unique ids for allocations and audit records.
type Generator struct {
	sid *shortid.Shortid
}

func NewGenerator() (*Generator, error) {
	sid, err := shortid.New(1, shortid.DefaultABC, uint64(time.Now().UnixNano()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create id generator")
	}

	return &Generator{sid}, nil
}

func (g *Generator) Generate() (string, error) {
	return g.sid.Generate()
}

// MustGenerate panics if the id can't be generated (the worker clock went backwards).
func (g *Generator) MustGenerate() string {
	return g.sid.MustGenerate()
}
