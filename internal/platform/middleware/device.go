package middleware

import (
	"context"
	"net/http"

	"github.com/mssola/useragent"

	"gridgrant/pkg/requestcontext"
)

// DeviceInfo summarizes the consumer's client, recorded alongside consent
// actions for audit purposes.
type DeviceInfo struct {
	Browser  string
	OS       string
	Mobile   bool
	Bot      bool
	ClientIP string
}

type contextKeyDevice struct{}

// GetDevice retrieves the parsed device info from the context.
func GetDevice(ctx context.Context) DeviceInfo {
	if info, ok := ctx.Value(contextKeyDevice{}).(DeviceInfo); ok {
		return info
	}
	return DeviceInfo{}
}

// WithDevice injects device info into a context. For tests that skip the
// HTTP middleware chain.
func WithDevice(ctx context.Context, info DeviceInfo) context.Context {
	return context.WithValue(ctx, contextKeyDevice{}, info)
}

// Device parses the User-Agent header into the request context.
func Device(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := useragent.New(r.UserAgent())
		browser, _ := ua.Browser()
		info := DeviceInfo{
			Browser:  browser,
			OS:       ua.OS(),
			Mobile:   ua.Mobile(),
			Bot:      ua.Bot(),
			ClientIP: r.RemoteAddr,
		}
		ctx := WithDevice(r.Context(), info)
		ctx = requestcontext.WithDevice(ctx, info.Browser+"/"+info.OS)
		ctx = requestcontext.WithClientIP(ctx, info.ClientIP)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
