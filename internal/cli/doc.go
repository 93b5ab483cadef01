// Package cli реализует инструмент командной строки Postflow.
//
// CLI работает через HTTP API и не импортирует внутренние пакеты:
// типы ответов продублированы в client.go.
//
//	client := cli.NewClient("http://localhost:8080")
//	records, err := client.ListRecords(cli.ListRecordsOpts{UserID: "u-1"})
//
// Вывод: таблицы (text/tabwriter) по умолчанию или JSON с флагом --json.
// Данные идут в stdout, сообщения в stderr, поэтому работает
// postflow record list --json | jq .
//
// Команды:
//   - record: list, create, show, reschedule, cancel, delete
//   - queue: stats, dead, redrive, sweep
//
// Группы создаются фабриками (NewRecordCmd, NewQueueCmd), которые
// получают clientFn и outputFn: Client и Output создаются лениво,
// после разбора PersistentFlags.
package cli
