package job

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"settlement/internal/config"
	"settlement/internal/service"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// PaymentConfirmer 支付确认入口
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, req *service.PaymentConfirmation) (*service.SplitResult, error)
}

// PaymentConsumer 消费支付成功消息并触发拆单
//
// 参数错误的消息记录后跳过；部分拆单失败由补偿任务继续处理；
// 其他错误重试几次后结束本次会话，从上次提交的位点重新消费。
type PaymentConsumer struct {
	group      sarama.ConsumerGroup
	confirmer  PaymentConfirmer
	topic      string
	maxRetries int
	backoff    time.Duration
	log        *logrus.Entry
}

func NewPaymentConsumer(group sarama.ConsumerGroup, confirmer PaymentConfirmer, cfg *config.Config) *PaymentConsumer {
	return &PaymentConsumer{
		group:      group,
		confirmer:  confirmer,
		topic:      cfg.Kafka.Topic.PaymentConfirmed,
		maxRetries: 3,
		backoff:    time.Second,
		log:        logrus.WithField("component", "PaymentConsumer"),
	}
}

func (c *PaymentConsumer) Start(ctx context.Context) {
	c.log.WithField("topic", c.topic).Info("支付确认消费者启动")

	go func() {
		for err := range c.group.Errors() {
			c.log.WithError(err).Error("消费组错误")
		}
	}()

	for {
		if err := c.group.Consume(ctx, []string{c.topic}, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				c.log.Info("消费组已关闭，任务退出")
				return
			}
			c.log.WithError(err).Error("消费失败")
		}
		if ctx.Err() != nil {
			c.log.Info("收到停止信号，任务退出")
			return
		}
	}
}

func (c *PaymentConsumer) Close() error {
	return c.group.Close()
}

func (c *PaymentConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

func (c *PaymentConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *PaymentConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.handleWithRetry(session.Context(), msg); err != nil {
				return err
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *PaymentConsumer) handleWithRetry(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
			}
		}
		if err = c.HandleMessage(ctx, msg); err == nil {
			return nil
		}
	}
	return err
}

// HandleMessage 处理单条消息，返回 nil 表示可以提交位点
func (c *PaymentConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	log := c.log.WithFields(logrus.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	var req service.PaymentConfirmation
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		log.WithError(err).Error("支付消息格式错误，跳过")
		return nil
	}
	log = log.WithField("order_id", req.OrderID)

	result, err := c.confirmer.ConfirmPayment(ctx, &req)
	var validationErr *service.ValidationError
	switch {
	case err == nil:
		log.WithField("sub_orders", len(result.SubOrders)).Info("支付消息处理完成")
		return nil
	case errors.As(err, &validationErr):
		log.WithError(err).Error("支付消息校验失败，跳过")
		return nil
	case errors.Is(err, service.ErrSplitPartialFailure):
		log.WithError(err).Warn("拆单部分失败，等待补偿")
		return nil
	default:
		log.WithError(err).Error("支付消息处理失败")
		return err
	}
}
