package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/tathienbao/exbroker/internal/types"
)

// PrivateMethod builds the implicit-API method name for an HTTP method and a
// private endpoint path, e.g. ("Get", "order/{id}") gives "private_getorder_id".
func PrivateMethod(method, endpoint string) string {
	ep := strings.NewReplacer("/", "_", "{", "", "}", "").Replace(endpoint)
	return "private_" + strings.ToLower(method) + strings.ToLower(ep)
}

// PrivateEndpoint calls a raw private endpoint on exchanges that expose them.
// The response is returned unparsed.
func (b *Broker) PrivateEndpoint(ctx context.Context, method, endpoint string, params Params) (map[string]any, error) {
	pc, ok := b.ex.(PrivateCaller)
	if !ok {
		return nil, fmt.Errorf("private endpoint: %w", types.ErrUnsupported)
	}

	name := PrivateMethod(method, endpoint)
	resp, err := pc.CallPrivate(ctx, name, params)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	return resp, nil
}
