package providers

import (
	"github.com/smallbiznis/clubhouse/internal/providers/email"
	"github.com/smallbiznis/clubhouse/internal/providers/identity"
	"go.uber.org/fx"
)

// Module wires the outbound delivery providers: mail and the identity
// system that receives admin invitations.
var Module = fx.Module("providers",
	email.Module,
	identity.Module,
)
