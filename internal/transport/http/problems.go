package http

import (
	"errors"
	"net/http"
	"strings"

	apierrors "cardauth/internal/errors"
	"cardauth/internal/license"
)

type authProblem struct {
	status int
	title  string
}

var authProblems = map[license.Kind]authProblem{
	license.KindEmptyCredential:       {http.StatusBadRequest, "Card Key Required"},
	license.KindHardwareIDUnavailable: {http.StatusUnprocessableEntity, "Hardware ID Unavailable"},
	license.KindNetwork:               {http.StatusBadGateway, "Card Authority Unreachable"},
	license.KindResponseMalformed:     {http.StatusBadGateway, "Malformed Authority Response"},
	license.KindRejected:              {http.StatusUnauthorized, "Card Rejected"},
	license.KindMissingCardInfo:       {http.StatusBadGateway, "Missing Card Information"},
	license.KindCardUnused:            {http.StatusForbidden, "Card Not Activated"},
	license.KindCardExpired:           {http.StatusForbidden, "Card Expired"},
	license.KindInvalidStatus:         {http.StatusForbidden, "Invalid Card Status"},
	license.KindMissingExpiry:         {http.StatusBadGateway, "Missing Expiry"},
	license.KindExpiryUnparseable:     {http.StatusBadGateway, "Unparseable Expiry"},
	license.KindAlreadyExpired:        {http.StatusUnauthorized, "Session Expired"},
}

// authErrorProblem converts a login failure into a problem document. It
// returns false when err carries no *license.AuthError.
func authErrorProblem(err error, instance string) (*apierrors.ProblemDetails, bool) {
	var authErr *license.AuthError
	if !errors.As(err, &authErr) {
		return nil, false
	}
	p, ok := authProblems[authErr.Kind]
	if !ok {
		p = authProblem{http.StatusInternalServerError, "Authentication Failed"}
	}
	reason := authErr.Kind.String()
	return apierrors.NewProblemDetails(
		p.status,
		"/errors/card/"+strings.ReplaceAll(reason, "_", "-"),
		p.title,
		authErr.Message,
		instance,
	).WithExtension("reason", reason), true
}
