package domain

// RecordStatus — статус записи о запланированной публикации.
//
// Жизненный цикл (монотонный):
//
//	PENDING → FIRED
//	        ↘ CANCELLED
//
// Других переходов нет: fired и cancelled — финальные.
type RecordStatus string

const (
	// RecordStatusPending — публикация ожидает своего времени.
	RecordStatusPending RecordStatus = "pending"

	// RecordStatusFired — webhook публикации успешно вызван.
	RecordStatusFired RecordStatus = "fired"

	// RecordStatusCancelled — публикация отменена пользователем.
	RecordStatusCancelled RecordStatus = "cancelled"
)

// IsTerminal возвращает true, если статус финальный.
func (s RecordStatus) IsTerminal() bool {
	switch s {
	case RecordStatusFired, RecordStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что статус известен.
func (s RecordStatus) IsValid() bool {
	switch s {
	case RecordStatusPending, RecordStatusFired, RecordStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет допустимость перехода.
func (s RecordStatus) CanTransitionTo(next RecordStatus) bool {
	return s == RecordStatusPending && next.IsTerminal()
}

// String возвращает строковое представление RecordStatus.
func (s RecordStatus) String() string {
	return string(s)
}

// JobState — состояние job в брокере.
//
// Жизненный цикл:
//
//	DELAYED → WAITING → ACTIVE → (удалён после ack)
//	                           ↘ DELAYED (backoff) → … → DEAD
type JobState string

const (
	// JobStateDelayed — job ждёт наступления run_at (или backoff после ошибки).
	JobStateDelayed JobState = "delayed"

	// JobStateWaiting — время наступило, job ждёт свободного consumer'а.
	JobStateWaiting JobState = "waiting"

	// JobStateActive — job выдан consumer'у и обрабатывается.
	JobStateActive JobState = "active"

	// JobStateDead — все попытки исчерпаны, job оставлен для оператора.
	JobStateDead JobState = "dead"
)

// IsLive возвращает true для job, который ещё может сработать.
func (s JobState) IsLive() bool {
	switch s {
	case JobStateDelayed, JobStateWaiting, JobStateActive:
		return true
	default:
		return false
	}
}
