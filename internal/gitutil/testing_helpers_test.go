package gitutil

import (
	"time"

	"github.com/go-git/go-git/v5/plumbing/object"
)

func testSignature() *object.Signature {
	return &object.Signature{
		Name:  "Test",
		Email: "test@example.com",
		When:  time.Unix(0, 0),
	}
}
