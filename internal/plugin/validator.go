package plugin

// Validator lets the host check a TTS plugin before using it.
type Validator interface {
	ValidateLang() error
	ValidateConnection() error
}

// Validate runs every check of v.
func Validate(v Validator) error {
	if err := v.ValidateLang(); err != nil {
		return err
	}
	return v.ValidateConnection()
}

// mimic3Validator accepts everything: voices are resolved by the engine on
// first use, and the engine runs locally.
type mimic3Validator struct {
	plugin *Plugin
}

// TODO: check v.plugin.lang against the languages of the installed voices once the
// engine can list them.
func (v *mimic3Validator) ValidateLang() error { return nil }

func (v *mimic3Validator) ValidateConnection() error { return nil }
