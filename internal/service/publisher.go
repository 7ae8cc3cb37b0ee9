package service

// Publisher re-publishes durable deltas into the realtime layer. Implemented
// by realtime.WsServer; a nil publisher is valid and drops everything, so
// the HTTP surface works without the realtime server in tests.
type Publisher interface {
	Publish(roomKey, event string, data interface{}, excludeConnId string)
}

func publish(p Publisher, roomKey, event string, data interface{}) {
	if p == nil {
		return
	}
	p.Publish(roomKey, event, data, "")
}
