package ports

import "context"

// StaticProvider is a test double that returns a fixed FetchResult/error
// regardless of the request, recording the requests it received.
type StaticProvider struct {
	IDValue string
	Result  FetchResult
	Err     error
	Calls   []FetchRequest
}

// NewStaticProvider builds a StaticProvider with the given id and canned result.
func NewStaticProvider(id string, result FetchResult) *StaticProvider {
	return &StaticProvider{IDValue: id, Result: result}
}

func (p *StaticProvider) ID() string { return p.IDValue }

func (p *StaticProvider) Fetch(ctx context.Context, req FetchRequest) (FetchResult, error) {
	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		return FetchResult{}, p.Err
	}
	return p.Result, nil
}
