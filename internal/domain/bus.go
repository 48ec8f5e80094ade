package domain

// MessageBus carries inbound events from gateways to the pipeline.
type MessageBus interface {
	Publish(ev InboundEvent)
	Subscribe() <-chan InboundEvent
	Close()
}
