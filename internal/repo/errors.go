package repo

import "errors"

// Ошибки Schedule Store. Обе реализации (RecordRepo, MemoryRecordStore)
// возвращают их без обёртки.
var (
	// ErrNotFound — записи с таким id нет.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists — запись с таким id уже создана.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrInvalidState — запись уже fired или cancelled, изменять её нельзя.
	ErrInvalidState = errors.New("record is not pending")

	// ErrGenerationMismatch — поколение записи уже сменил другой вызов.
	ErrGenerationMismatch = errors.New("record generation changed")
)
