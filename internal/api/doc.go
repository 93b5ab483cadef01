// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go        — Handler с DI (scheduler, broker, sweeper, logger)
//   - routes.go         — регистрация маршрутов
//   - middleware.go     — middleware (logging, recovery)
//   - response.go       — унифицированные JSON-ответы и обработка ошибок
//   - dto.go            — Data Transfer Objects (request/response)
//   - record_handler.go — обработчики для /records
//   - queue_handler.go  — обработчики для /queue (статистика, dead job'ы)
//   - ops_handler.go    — операционные endpoints (ручной sweep)
//
// Ошибки брокера наружу не отдаются: клиент получает BROKER_UNAVAILABLE
// с общим сообщением, подробности остаются в логе.
package api
