package domain

import "fmt"

// Variant описывает размерный вариант товара с независимым учётом стока.
type Variant struct {
	Size             string
	StockQuantity    int
	ReservedQuantity int
}

// Available возвращает количество, доступное для новых покупателей.
// Значение может быть отрицательным — это сигнал для Consistency Monitor,
// серверная логика его не маскирует.
func (v Variant) Available() int {
	return v.StockQuantity - v.ReservedQuantity
}

// Product описывает товар с базовым стоком или списком размерных вариантов.
// Для товара с вариантами базовые поля StockQuantity/ReservedQuantity
// в продажах не участвуют.
type Product struct {
	ID               string
	Title            string
	Slug             string
	StockQuantity    int
	ReservedQuantity int
	Variants         []Variant
}

// HasVariants сообщает, продаётся ли товар по размерным вариантам.
func (p Product) HasVariants() bool {
	return len(p.Variants) > 0
}

// Available возвращает доступное количество базового стока.
func (p Product) Available() int {
	return p.StockQuantity - p.ReservedQuantity
}

// AvailableForDisplay возвращает доступное количество для отображения,
// ограниченное снизу нулём.
func (p Product) AvailableForDisplay() int {
	if a := p.Available(); a > 0 {
		return a
	}
	return 0
}

// VariantBySize ищет вариант по размеру. Варианты адресуются стабильным
// ключом размера, а не индексом в списке.
func (p Product) VariantBySize(size string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.Size == size {
			return v, true
		}
	}
	return Variant{}, false
}

// StockOperation — единица работы для reserve/release/deduct: один товар,
// один вариант (если задан размер), количество > 0.
type StockOperation struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size,omitempty"`
}

// Validate проверяет, корректно ли заполнена операция.
func (op StockOperation) Validate() []error {
	var errs []error

	if op.ProductID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if op.Quantity <= 0 {
		errs = append(errs, ErrQuantityInvalid)
	}

	return errs
}

// Target возвращает человекочитаемый адрес операции для логов.
func (op StockOperation) Target() string {
	if op.Size != "" {
		return fmt.Sprintf("%s[%s]", op.ProductID, op.Size)
	}
	return op.ProductID
}
