// Package mq публикует и потребляет события жизненного цикла записей через RabbitMQ.
//
// Очередь отложенных job'ов живёт в Redis (пакет queue); здесь только
// уведомления для внешних подписчиков и операторов.
//
// Структура:
//   - connection.go — соединение с переподключением
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — публикация событий
//   - consumer.go   — потребление событий
//
// События:
//   - post.published — webhook принял публикацию, запись fired
//   - job.dead       — попытки исчерпаны, запись осталась pending
package mq
