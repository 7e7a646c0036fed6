package repository

import (
	"sync"

	"gorm.io/gorm"

	"github.com/technovacao/registration/internal/pkg/capacity"
)

// Factory builds the repositories once, sharing one capacity guard.
type Factory struct {
	db    *gorm.DB
	guard *capacity.Guard
	repos *Repositories
	once  sync.Once
}

func NewFactory(db *gorm.DB, guard *capacity.Guard) *Factory {
	return &Factory{db: db, guard: guard}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db, f.guard)
	})
	return f.repos
}

var (
	globalFactory *Factory
	factoryMu     sync.Mutex
)

// InitializeFactory initializes the global repository factory
func InitializeFactory(db *gorm.DB, guard *capacity.Guard) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	globalFactory = NewFactory(db, guard)
}

// GetGlobalRepositories returns the repositories of the global factory. It
// panics when InitializeFactory was never called.
func GetGlobalRepositories() *Repositories {
	factoryMu.Lock()
	f := globalFactory
	factoryMu.Unlock()
	if f == nil {
		panic("repository factory not initialized, call InitializeFactory first")
	}
	return f.GetRepositories()
}
