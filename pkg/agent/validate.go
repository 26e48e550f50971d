package agent

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"
)

//go:embed openapi.yaml
var openAPIDocument []byte

// Bodies above this size, or of unknown size, skip schema validation. The
// filter decodes into generic maps and re-encodes, several times the payload
// for a large push; handlers still decode into typed structs.
const maxValidatedBody = 1 << 20

func loadRouter() (routers.Router, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPIDocument)
	if err != nil {
		return nil, fmt.Errorf("failed to load openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	router, err := legacyrouter.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to build openapi router: %w", err)
	}
	return router, nil
}

// validator rejects requests that do not match the embedded document.
// Requests for paths the document does not describe fall through to the
// router so it can answer 404 or 405 itself.
func (s *Server) validator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, params, err := s.oapi.FindRoute(r)
		if err != nil {
			var routeErr *routers.RouteError
			if !errors.As(err, &routeErr) {
				s.logger.Warn("openapi route lookup failed", "path", r.URL.Path, "error", err)
			}
			next.ServeHTTP(w, r)
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: params,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				ExcludeRequestBody: r.ContentLength < 0 || r.ContentLength > maxValidatedBody,
			},
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				s.writeError(w, r, errBodyTooLarge(maxErr))
				return
			}
			s.writeError(w, r, badRequest(err))
			return
		}
		next.ServeHTTP(w, r)
	})
}
