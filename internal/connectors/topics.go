package connectors

const (
	TopicConnStatus    = "conn.status"
	TopicSessionOpened = "session.opened"
	TopicSessionClosed = "session.closed"
	TopicSensorFrame   = "sensor.frame"
	TopicFrameRejected = "frame.rejected"
	TopicConfigApplied = "config.applied"
	TopicRawFrameIn    = "raw.frame.in"
	TopicRawFrameOut   = "raw.frame.out"
)
