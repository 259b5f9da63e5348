package validation

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	roomIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	peerIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)
)

func init() {
	MustRegisterGin("roomid", ValidateRoomID)
	MustRegisterGin("peerid", ValidatePeerID)
}

// ValidateRoomID accepts 1-64 characters of letters, digits, '-' and '_'.
func ValidateRoomID(fl validator.FieldLevel) bool {
	return roomIDRegex.MatchString(fl.Field().String())
}

// ValidatePeerID accepts client generated ids such as uuids or short names.
func ValidatePeerID(fl validator.FieldLevel) bool {
	return peerIDRegex.MatchString(fl.Field().String())
}

// RegisterTags installs the room and peer id tags on a non-gin validator.
func RegisterTags(v *validator.Validate) error {
	if err := Register(v, "roomid", ValidateRoomID); err != nil {
		return err
	}
	if err := Register(v, "peerid", ValidatePeerID); err != nil {
		return err
	}
	RegisterAlias(v, "kind", "oneof=audio")
	return nil
}
