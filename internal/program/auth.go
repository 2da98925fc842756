package program

import (
	"fmt"

	"github.com/libsqlgo/sqld/internal/auth"
	"github.com/libsqlgo/sqld/internal/classify"
	"github.com/libsqlgo/sqld/internal/sqlderr"
)

// Authorize gates an entire program before any step runs (spec.md §4.C):
// an anonymous identity rejects every step; ReadOnly allows only Read,
// TxnBegin, and TxnEnd; FullAccess allows everything.
func Authorize(identity auth.Identity, pgm *Program) error {
	for _, step := range pgm.Steps {
		if err := authorizeOne(identity, step.Query.Stmt); err != nil {
			return err
		}
	}
	return nil
}

func authorizeOne(identity auth.Identity, stmt classify.Statement) error {
	if identity.IsAnonymous() {
		return sqlderr.NotAuthorized("anonymous access not allowed")
	}
	switch stmt.Kind {
	case classify.TxnBegin, classify.TxnEnd:
		return nil
	case classify.Read:
		return nil
	default:
		if identity.Level() == auth.FullAccess {
			return nil
		}
		return sqlderr.NotAuthorized(fmt.Sprintf("current session is not authorized to run: %s", stmt.SQL))
	}
}

// AuthorizeDescribe gates the describe operation (spec.md §4.E): any
// authenticated identity may describe; anonymous is rejected.
func AuthorizeDescribe(identity auth.Identity) error {
	if identity.IsAnonymous() {
		return sqlderr.NotAuthorized("anonymous access not allowed")
	}
	return nil
}
