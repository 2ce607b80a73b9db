package config

// DbSettings selects and configures the creation tracker store.
type DbSettings struct {
	Type       string `mapstructure:"type" validate:"required,oneof=postgres mongo spanner dynamodb memory"`
	DSN        string `mapstructure:"dsn" validate:"required_if=Type postgres"`
	URI        string `mapstructure:"uri" validate:"required_if=Type mongo,required_if=Type spanner"`
	Name       string `mapstructure:"name" validate:"required_if=Type mongo"`
	Collection string `mapstructure:"collection"`
	Table      string `mapstructure:"table" validate:"required_if=Type dynamodb"`
	Region     string `mapstructure:"region"`
	Endpoint   string `mapstructure:"endpoint"`
}
