package transfer

import (
	"context"
	"fmt"

	"ticket-ledger/internal/instance"
	"ticket-ledger/internal/logger"
)

// PublishedSettlement treats the downstream settlement system as a consumer
// of the ticket-transferred stream: Commit publishes the payout breakdown and
// the broker ack is the commit confirmation. A real payment rail slots in
// behind the same Settlement interface.
type PublishedSettlement struct {
	Publisher Publisher
	Topic     string
	Logger    *logger.Logger
}

func NewPublishedSettlement(publisher Publisher, topic string, log *logger.Logger) *PublishedSettlement {
	return &PublishedSettlement{Publisher: publisher, Topic: topic, Logger: log}
}

func (s *PublishedSettlement) Commit(ctx context.Context, instanceID string, breakdown instance.SettlementBreakdown) error {
	if err := s.Publisher.Publish(ctx, s.Topic, instanceID, breakdown); err != nil {
		return fmt.Errorf("settlement publish: %w", err)
	}
	s.Logger.LogTransfer("SETTLE", instanceID,
		fmt.Sprintf("commission %d to %s, fee %d, net %d to %s",
			breakdown.Commission, breakdown.CommissionRecipient,
			breakdown.PlatformFee, breakdown.NetToSeller, breakdown.SellerID))
	return nil
}
