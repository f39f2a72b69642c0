package webhook

import "time"

// Signature layouts of the supported webhook sources.
var (
	BankScheme = Scheme{
		Recipe:          RecipeTimestampDotBody,
		SignatureHeader: "X-Bank-Signature",
	}
	CollectionScheme = Scheme{
		Recipe:          RecipeTimestampMethodPathBody,
		SignatureHeader: "X-Collection-Signature",
		TimestampHeader: "X-Collection-Timestamp",
	}
	AccountScheme = Scheme{
		Recipe:          RecipeTimestampKeyMethodPathBody,
		SignatureHeader: "X-Account-Signature",
		TimestampHeader: "X-Account-Timestamp",
		APIKeyHeader:    "X-Account-Key",
	}
)

// NewVendors wires each supported vendor's verifier and mapper over a shared secret cache.
func NewVendors(secrets SecretSource, window time.Duration) map[string]Vendor {
	mappers := DefaultMappers()
	return map[string]Vendor{
		VendorBank:       {Auth: NewVerifier(VendorBank, BankScheme, secrets, window), Mapper: mappers[VendorBank]},
		VendorCollection: {Auth: NewVerifier(VendorCollection, CollectionScheme, secrets, window), Mapper: mappers[VendorCollection]},
		VendorAccount:    {Auth: NewVerifier(VendorAccount, AccountScheme, secrets, window), Mapper: mappers[VendorAccount]},
	}
}
