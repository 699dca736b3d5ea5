package alerting

// Recommend lists operator actions for an alert given its context.
func Recommend(a *Alert, c *Context) []string {
	var out []string

	if a.Tier == TierP1 || a.Severity == SeverityCritical {
		out = append(out, "Immediate investigation required", "Notify relevant stakeholders")
	}

	switch a.Category {
	case CategoryQuality:
		out = append(out, "Review recent quality inspection reports", "Check batch/lot numbers for affected products")
	case CategorySupply:
		out = append(out, "Contact supplier for status update", "Identify alternative suppliers if needed")
	case CategorySupplier:
		out = append(out, "Review supplier performance and contract terms")
	case CategoryDemand:
		out = append(out, "Adjust inventory orders", "Review demand forecast models")
	case CategoryExpiration:
		out = append(out, "Prioritize near-expiry stock for sale or markdown")
	case CategoryDefect:
		out = append(out, "Quarantine affected units pending inspection")
	case CategoryUnknown:
	}

	if c != nil {
		if c.Product != nil && c.Product.StockHealth == StockCritical {
			out = append(out, "Expedite reorder or switch to backup supplier")
		}
		if c.History != nil && c.History.Recurring {
			out = append(out, "Investigate root cause (recurring issue)")
		}
	}
	return out
}
