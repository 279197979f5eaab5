package checkout

import (
	"fmt"

	"github.com/gitshopapp/grocer/internal/models"
)

// AddressBook is the buyer's saved addresses plus the one picked as the
// shipping destination. Picking never mutates the addresses themselves.
// AddressBook is not safe for concurrent use; the orchestrator guards it.
type AddressBook struct {
	addresses []models.Address
	selected  int
}

func NewAddressBook(addresses []models.Address) *AddressBook {
	return &AddressBook{
		addresses: append([]models.Address(nil), addresses...),
		selected:  -1,
	}
}

func (b *AddressBook) Addresses() []models.Address {
	return append([]models.Address(nil), b.addresses...)
}

func (b *AddressBook) Len() int {
	return len(b.addresses)
}

func (b *AddressBook) Selected() (models.Address, bool) {
	if b.selected < 0 || b.selected >= len(b.addresses) {
		return models.Address{}, false
	}
	return b.addresses[b.selected], true
}

func (b *AddressBook) Select(id models.ID) (models.Address, error) {
	for i, address := range b.addresses {
		if address.ID == id {
			b.selected = i
			return address, nil
		}
	}
	return models.Address{}, fmt.Errorf("%w: %s", ErrAddressNotFound, id)
}

// SelectFirst picks the first saved address, if any.
func (b *AddressBook) SelectFirst() (models.Address, bool) {
	if len(b.addresses) == 0 {
		return models.Address{}, false
	}
	b.selected = 0
	return b.addresses[0], true
}
