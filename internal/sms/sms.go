// Package sms delivers verification codes over the utility's SMS gateway.
// The engines depend only on the Sender interface; production and test
// implementations both satisfy it.
package sms

import "context"

// Sender dispatches one message to one phone number. Numbers are
// pre-validated by the caller (Kosovo/Albania format, +383/+355 prefix);
// implementations do not revalidate.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, phone, message string) error

func (f SenderFunc) Send(ctx context.Context, phone, message string) error {
	return f(ctx, phone, message)
}
