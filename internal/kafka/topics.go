package kafka

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"ticket-ledger/internal/logger"
)

// EnsureTopicsExist creates the ledger's topics on startup if they are
// missing. Creation failures are logged per topic, not fatal.
func EnsureTopicsExist(brokers []string, topics []string, log *logger.Logger) error {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	for _, topic := range topics {
		err := controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
		if err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			log.Error("KAFKA", "create topic "+topic+": "+err.Error())
			continue
		}
		log.LogKafka("CREATE", topic, "topic created")
	}

	// Give the broker a moment to settle metadata.
	time.Sleep(1 * time.Second)
	return nil
}
