package transport

import "fmt"

// Options selects and configures a provider adapter.
type Options struct {
	Provider      string // "resend", "postmark", "ses", "console"
	ResendAPIKey  string
	PostmarkToken string
	SESRegion     string
	SESAccessKey  string
	SESSecretKey  string
	Auth          InboundAuth
}

// New builds the transport for the configured provider.
func New(opts Options) (EmailTransport, error) {
	switch opts.Provider {
	case "resend":
		return NewResendTransport(opts.ResendAPIKey, opts.Auth), nil
	case "postmark":
		return NewPostmarkTransport(opts.PostmarkToken, opts.Auth), nil
	case "ses":
		return NewSESTransport(opts.SESAccessKey, opts.SESSecretKey, opts.SESRegion, opts.Auth)
	case "console", "":
		return NewConsoleTransport(opts.Auth), nil
	}
	return nil, fmt.Errorf("unknown email provider %q", opts.Provider)
}
