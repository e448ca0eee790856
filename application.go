package snmp3

import "context"

// NotificationReceiver is the application receiving verified notifications.
type NotificationReceiver interface {
	ProcessPDU(context.Context, *Message) error
}

type NotificationReceiverFunc func(context.Context, *Message) error

func (f NotificationReceiverFunc) ProcessPDU(ctx context.Context, m *Message) error {
	return f(ctx, m)
}
