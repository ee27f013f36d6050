// Package adapters implements one capability.Capability per capability
// kind. Adapters translate the router's generic request into the provider's
// input, apply capability specific rules and write results back to the
// session state.
package adapters

import (
	"context"
	"errors"
	"maps"

	"github.com/aixgo-dev/datapilot/capability"
)

// upstream wraps a provider error. Errors the provider marks permanent stay
// non-retryable; timeouts and unclassified errors are retryable.
func upstream(name string, err error) error {
	var up *capability.UpstreamFailure
	if errors.As(err, &up) {
		return err
	}
	return &capability.UpstreamFailure{
		Capability: name,
		Attempts:   1,
		Retryable:  errors.Is(err, context.DeadlineExceeded) || capability.IsRetryable(err),
		Err:        err,
	}
}

func fromProvider(name string, resp *capability.ProviderResponse) *capability.Result {
	if resp == nil {
		return &capability.Result{Capability: name}
	}
	return &capability.Result{
		Capability: name,
		Text:       resp.Text,
		Data:       resp.Data,
		Artifacts:  resp.Artifacts,
	}
}

func mergeContext(base map[string]string, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	maps.Copy(out, base)
	for k, v := range extra {
		if _, ok := out[k]; !ok && v != "" {
			out[k] = v
		}
	}
	return out
}
