package domain

// OperationResult — итог вызова reserve/release/deduct. При Success=false
// никакие изменения стока не зафиксированы: частичное применение
// внутри одного вызова не является валидным исходом.
type OperationResult struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors,omitempty"`
}

// OK возвращает успешный результат без ошибок.
func OK() OperationResult {
	return OperationResult{Success: true}
}

// Failed возвращает неуспешный результат с перечнем ошибок.
func Failed(errs ...string) OperationResult {
	return OperationResult{Success: false, Errors: errs}
}
