// Package mqtt is the bridge's broker session.
//
// It carries three flows:
//
//	graylogic/state/dun/{ident}   retained device state (empty payload clears it)
//	graylogic/ack/dun/{ident}     command acknowledgements
//	graylogic/health/dun          retained bridge health
//
// and one inbound subscription, graylogic/command/dun/+, which is replayed
// after every reconnect because sessions are clean.
//
// graylogic/system/status holds a retained online/offline document. The
// offline form is also registered as the will, so consumers see the bridge
// drop even when it crashes.
//
// Tests tagged `integration` need a broker at 127.0.0.1:1883.
package mqtt
