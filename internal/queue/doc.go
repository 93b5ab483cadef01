// Package queue — брокер отложенных job'ов.
//
// Брокер — единственный компонент, который "ждёт времени": Scheduler API
// кладёт job с run_at, а брокер отдаёт его consumer'у, когда run_at наступил.
//
// Структура:
//   - broker.go   — интерфейс Broker и общие ошибки
//   - redis.go    — RedisBroker (production): sorted set + list + Lua-скрипты
//   - scripts.go  — Lua-скрипты RedisBroker
//   - memory.go   — MemoryBroker (тесты и локальная разработка)
//   - consumer.go — Consumer: цикл reserve → handler → ack/fail, reaper
//   - backoff.go  — RetryPolicy и экспоненциальный backoff
//
// Состояния job:
//
//	delayed ──(run_at)──▶ waiting ──(reserve)──▶ active ──(ack)──▶ удалён
//	   ▲                                           │
//	   └──────────(fail, попытки остались)─────────┤
//	                                               └──(fail, попыток нет)──▶ dead
//
// Active job с истёкшим lease (consumer упал) reaper возвращает в waiting:
// доставка at-least-once, обработчик должен быть идемпотентным.
//
// Redis keys (prefix по умолчанию "postflow:"):
//
//	{prefix}job:{job_id}       hash: поля job
//	{prefix}delayed            zset: score = run_at (ms)
//	{prefix}waiting            list: готовые к выдаче
//	{prefix}active             zset: score = lease deadline (ms)
//	{prefix}dead               zset: score = время перевода в dead (ms)
//	{prefix}record:{record_id} set: живые job'ы записи (для Cancel и Live)
package queue
