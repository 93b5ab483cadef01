// Package worker выполняет сработавшие job'ы: вызывает publish webhook
// и фиксирует результат.
//
// # Обработка job
//
//  1. Consumer забирает готовый job из брокера (lease)
//  2. Загрузка записи: удалена, не pending или ждёт другое поколение → ack без вызова
//  3. POST на webhook с JobPayload и заголовком Idempotency-Key
//  4. 2xx → запись fired, ack, событие post.published
//  5. Иначе → Fail: retry через BaseDelay * 2^(attempt-1), после MaxAttempts → dead,
//     событие job.dead; запись остаётся pending
//
// Если процесс упал посреди обработки, job вернётся в очередь после
// истечения lease (at-least-once). Webhook обязан быть идемпотентным
// по Idempotency-Key.
//
// # Использование
//
//	client, err := worker.NewWebhookClient(cfg.Webhook.URL, cfg.Webhook.Timeout)
//	if err != nil {
//	    return err
//	}
//
//	w := worker.New(worker.Config{
//	    Store:   recordRepo,
//	    Broker:  broker,
//	    Webhook: client,
//	    Events:  publisher, // опционально
//	    Logger:  logger,
//	})
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
//	defer w.Stop()
package worker
