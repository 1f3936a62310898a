package memory

import (
	"sync"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
)

type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository создаёт in-memory реализацию ProductRepository,
// опционально заполняя её начальными товарами.
func NewProductRepository(seed ...domain.Product) *productRepositoryInMemory {
	repo := &productRepositoryInMemory{items: make(map[string]domain.Product)}
	for _, p := range seed {
		repo.items[p.ID] = cloneProduct(p)
	}
	return repo
}

// Put сохраняет или перезаписывает товар; используется сидированием и тестами.
func (r *productRepositoryInMemory) Put(product domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[product.ID] = cloneProduct(product)
}

// Delete удаляет товар; используется тестами сценария release по удалённому товару.
func (r *productRepositoryInMemory) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
}

func (r *productRepositoryInMemory) Get(id string) (domain.Product, error) {
	if id == "" {
		return domain.Product{}, domain.ErrProductIDRequired
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return cloneProduct(product), nil
}

func (r *productRepositoryInMemory) List() ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.items))
	for _, p := range r.items {
		result = append(result, cloneProduct(p))
	}
	return result, nil
}

// ApplyStockPatches применяет всю партию под одним mutex: либо все патчи
// адресуют существующие товары/варианты и применяются, либо не применяется
// ни один. Инкременты не ограничены снизу — отрицательные значения
// остаются видимыми для монитора консистентности.
func (r *productRepositoryInMemory) ApplyStockPatches(patches []domain.StockPatch) error {
	if len(patches) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, patch := range patches {
		product, ok := r.items[patch.ProductID]
		if !ok {
			return domain.ErrProductNotFound
		}
		if patch.Size != "" {
			if _, found := product.VariantBySize(patch.Size); !found {
				return domain.ErrVariantNotFound
			}
		}
	}

	for _, patch := range patches {
		product := r.items[patch.ProductID]
		if patch.Size == "" {
			product.StockQuantity += patch.StockDelta
			product.ReservedQuantity += patch.ReservedDelta
		} else {
			for i := range product.Variants {
				if product.Variants[i].Size == patch.Size {
					product.Variants[i].StockQuantity += patch.StockDelta
					product.Variants[i].ReservedQuantity += patch.ReservedDelta
					break
				}
			}
		}
		r.items[patch.ProductID] = product
	}

	return nil
}

func cloneProduct(src domain.Product) domain.Product {
	dst := src
	dst.Variants = append([]domain.Variant(nil), src.Variants...)
	return dst
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
