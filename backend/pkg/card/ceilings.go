package card

// Ceilings are the limits a new card of a given type starts with.
type Ceilings struct {
	DailyLimit   int64 `json:"daily_limit" yaml:"daily_limit" mapstructure:"daily_limit"`
	MonthlyLimit int64 `json:"monthly_limit" yaml:"monthly_limit" mapstructure:"monthly_limit"`
	MaxBalance   int64 `json:"max_balance" yaml:"max_balance" mapstructure:"max_balance"`
}

var DefaultCeilings = map[Type]Ceilings{
	TypeStandard:   {DailyLimit: 50_000, MonthlyLimit: 500_000, MaxBalance: 200_000},
	TypePremium:    {DailyLimit: 200_000, MonthlyLimit: 2_000_000, MaxBalance: 1_000_000},
	TypeEntreprise: {DailyLimit: 1_000_000, MonthlyLimit: 10_000_000, MaxBalance: 5_000_000},
}
