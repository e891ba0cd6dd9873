package services

import (
	"context"
	"strings"

	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/repositories"
)

// AccessGateDeps bundles the repositories the gate reads owners from.
type AccessGateDeps struct {
	Orders    repositories.OrderRepository
	Partners  repositories.PartnerRepository
	Addresses repositories.AddressRepository
	Products  repositories.ProductRepository
	Services  repositories.ServiceRepository
	Contacts  repositories.ContactRepository
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type accessGate struct {
	orders    repositories.OrderRepository
	partners  repositories.PartnerRepository
	addresses repositories.AddressRepository
	products  repositories.ProductRepository
	services  repositories.ServiceRepository
	contacts  repositories.ContactRepository
	logger    func(context.Context, string, map[string]any)
}

var _ AccessGate = (*accessGate)(nil)

// NewAccessGate builds the ownership gate. Missing repositories deny the
// corresponding checks rather than failing construction.
func NewAccessGate(deps AccessGateDeps) AccessGate {
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &accessGate{
		orders:    deps.Orders,
		partners:  deps.Partners,
		addresses: deps.Addresses,
		products:  deps.Products,
		services:  deps.Services,
		contacts:  deps.Contacts,
		logger:    logger,
	}
}

// CanAccessOrder resolves the caller's side of the order. When the caller is
// both buyer and partner owner, seller wins.
func (g *accessGate) CanAccessOrder(ctx context.Context, identity *auth.Identity, orderID string) AccessDecision {
	userID, ok := callerID(identity)
	orderID = strings.TrimSpace(orderID)
	if !ok || orderID == "" || g.orders == nil {
		return AccessDecision{}
	}
	access, err := g.orders.FindAccess(ctx, orderID)
	if err != nil {
		g.denied(ctx, "order", orderID, err)
		return AccessDecision{}
	}
	switch {
	case access.PartnerOwnerID != "" && access.PartnerOwnerID == userID:
		return AccessDecision{Allowed: true, Role: AccessRoleSeller}
	case access.BuyerID != "" && access.BuyerID == userID:
		return AccessDecision{Allowed: true, Role: AccessRoleBuyer}
	default:
		return AccessDecision{}
	}
}

func (g *accessGate) CanManagePartner(ctx context.Context, identity *auth.Identity, partnerID string) bool {
	userID, ok := callerID(identity)
	partnerID = strings.TrimSpace(partnerID)
	if !ok || partnerID == "" || g.partners == nil {
		return false
	}
	partner, err := g.partners.FindByID(ctx, partnerID)
	if err != nil {
		g.denied(ctx, "partner", partnerID, err)
		return false
	}
	return partner.OwnerUserID != "" && partner.OwnerUserID == userID
}

func (g *accessGate) CanManageAddress(ctx context.Context, identity *auth.Identity, addressID string) bool {
	userID, ok := callerID(identity)
	addressID = strings.TrimSpace(addressID)
	if !ok || addressID == "" || g.addresses == nil {
		return false
	}
	address, err := g.addresses.FindByID(ctx, addressID)
	if err != nil {
		g.denied(ctx, "address", addressID, err)
		return false
	}
	return address.UserID == userID
}

func (g *accessGate) CanManageProduct(ctx context.Context, identity *auth.Identity, productID string) bool {
	productID = strings.TrimSpace(productID)
	if _, ok := callerID(identity); !ok || productID == "" || g.products == nil {
		return false
	}
	product, err := g.products.FindByID(ctx, productID)
	if err != nil {
		g.denied(ctx, "product", productID, err)
		return false
	}
	return g.CanManagePartner(ctx, identity, product.PartnerID)
}

func (g *accessGate) CanManageService(ctx context.Context, identity *auth.Identity, serviceID string) bool {
	serviceID = strings.TrimSpace(serviceID)
	if _, ok := callerID(identity); !ok || serviceID == "" || g.services == nil {
		return false
	}
	service, err := g.services.FindByID(ctx, serviceID)
	if err != nil {
		g.denied(ctx, "service", serviceID, err)
		return false
	}
	return g.CanManagePartner(ctx, identity, service.PartnerID)
}

func (g *accessGate) CanManageContact(ctx context.Context, identity *auth.Identity, contactID string) bool {
	contactID = strings.TrimSpace(contactID)
	if _, ok := callerID(identity); !ok || contactID == "" || g.contacts == nil {
		return false
	}
	contact, err := g.contacts.FindByID(ctx, contactID)
	if err != nil {
		g.denied(ctx, "contact", contactID, err)
		return false
	}
	return g.CanManagePartner(ctx, identity, contact.PartnerID)
}

func (g *accessGate) denied(ctx context.Context, resource, id string, err error) {
	event := "access.lookup.failed"
	if isRepoNotFound(err) {
		event = "access.lookup.rejected"
	}
	g.logger(ctx, event, map[string]any{
		"resource": resource,
		"id":       id,
		"error":    err.Error(),
	})
}

func callerID(identity *auth.Identity) (string, bool) {
	if identity == nil {
		return "", false
	}
	id := strings.TrimSpace(identity.UserID)
	return id, id != ""
}
