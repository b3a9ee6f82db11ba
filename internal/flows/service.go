package flows

import "context"

// Service is the centralized flow runner built once by the gateway.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Refresh.Send != nil && s.deps.Exchange.Send != nil
}

func (s Service) Refresh(ctx context.Context) RefreshResult {
	return RunRefresh(ctx, s.deps.Refresh)
}

func (s Service) Exchange(ctx context.Context, path string, request any) ExchangeResult {
	return RunTokenExchange(ctx, path, request, s.deps.Exchange)
}
