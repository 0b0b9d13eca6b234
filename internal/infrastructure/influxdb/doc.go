// Package influxdb writes the bridge's time series:
//
//	dun_connection  one point per network connect/disconnect
//	dun_device      one point per device registration or power change
//	dun_bridge      the bridge counters, once per health interval
//
// Points carry the time of the event that produced them, so a backlog in
// the observer queue does not skew the series.
package influxdb
