package kafka

type Reader = reader

func NewConsumerWithReader(r Reader) *KafkaGoConsumer {
	return newKafkaGoConsumerWithReader(r)
}
