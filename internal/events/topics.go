package events

// Topic constants for domain events emitted by the checkout pipeline.
const (
	TopicOrderCreated     = "order.created"
	TopicPaymentInitiated = "payment.initiated"
	TopicPaymentSucceeded = "payment.succeeded"
	TopicPaymentFailed    = "payment.failed"
	TopicPaymentCancelled = "payment.cancelled"
	TopicPaymentRefunded  = "payment.refunded"
	TopicCODConfirmed     = "payment.cod_confirmed"
)
