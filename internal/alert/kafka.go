package alert

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"quantflow/conf"
	"quantflow/pkg/logger"
)

// Kafka告警/审计发布。告警和审计各自一个topic，
// key用subject保证同类事件进同一分区

type KafkaNotifier struct {
	alertWriter *kafka.Writer
	auditWriter *kafka.Writer
}

type alertPayload struct {
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Timestamp string `json:"timestamp"`
}

func NewKafkaNotifier(cfg conf.KafkaConfig) *KafkaNotifier {
	return &KafkaNotifier{
		alertWriter: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Broker),
			Topic:    cfg.AlertTopic,
			Balancer: &kafka.LeastBytes{},
		},
		auditWriter: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Broker),
			Topic:    cfg.AuditTopic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (k *KafkaNotifier) Notify(ctx context.Context, subject, body string) {
	payload, err := json.Marshal(alertPayload{
		Subject:   subject,
		Body:      body,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	if err != nil {
		logger.Error("alert payload marshal failed", logger.Pair("err", err.Error()))
		return
	}
	if err := k.alertWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(subject),
		Value: payload,
	}); err != nil {
		logger.Warn("kafka alert publish failed",
			logger.Pair("subject", subject), logger.Pair("err", err.Error()))
	}
}

// PublishAudit 审计事件旁路发布，库里落了一份，这里是消费方订阅用
func (k *KafkaNotifier) PublishAudit(ctx context.Context, kind, refId string, detail interface{}) {
	payload, err := json.Marshal(map[string]interface{}{
		"kind":      kind,
		"ref_id":    refId,
		"detail":    detail,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		logger.Error("audit payload marshal failed", logger.Pair("err", err.Error()))
		return
	}
	if err := k.auditWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(kind),
		Value: payload,
	}); err != nil {
		logger.Warn("kafka audit publish failed",
			logger.Pair("kind", kind), logger.Pair("err", err.Error()))
	}
}

func (k *KafkaNotifier) Close() error {
	if err := k.alertWriter.Close(); err != nil {
		logger.Warn("alert writer close failed", logger.Pair("err", err.Error()))
	}
	return k.auditWriter.Close()
}
