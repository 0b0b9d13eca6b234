package mqtt

import "errors"

// Sentinel errors. Wrapped errors carry the broker or token detail.
var (
	// ErrNotConnected means the broker session is down.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	// ErrConnectionFailed means the first connection did not complete.
	ErrConnectionFailed = errors.New("mqtt: cannot connect to broker")

	// ErrPublishFailed means the broker did not accept a publish in time.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed means a subscription was refused or timed out.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed means an unsubscribe was refused or timed out.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: empty topic")

	// ErrInvalidQoS is returned for a QoS above 2.
	ErrInvalidQoS = errors.New("mqtt: QoS must be 0, 1 or 2")
)
