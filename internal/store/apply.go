package store

import (
	"fmt"
	"time"

	"github.com/example/driver-dispatch/internal/models"
)

// ApplyOrder applies updates to o in place, resolving ServerTimestamp to now.
// Backends that keep whole documents (memory, postgres) share it.
func ApplyOrder(o *models.Order, updates []Update, now time.Time) error {
	for _, u := range updates {
		if err := applyOrderField(o, u, now); err != nil {
			return fmt.Errorf("order %s field %s: %w", o.ID, u.Field, err)
		}
	}
	return nil
}

func applyOrderField(o *models.Order, u Update, now time.Time) error {
	_, del := u.Value.(deleteField)
	switch u.Field {
	case models.FieldStatus:
		if del {
			o.Status = ""
			return nil
		}
		return assign(&o.Status, u.Value)
	case models.FieldAssignmentStatus:
		if del {
			o.AssignmentStatus = models.AssignmentUnset
			return nil
		}
		switch v := u.Value.(type) {
		case models.AssignmentStatus:
			o.AssignmentStatus = v
		case string:
			o.AssignmentStatus = models.AssignmentStatus(v)
		default:
			return typeErr(u.Value)
		}
	case models.FieldRejectedByDrivers:
		if del {
			o.RejectedByDrivers = nil
			return nil
		}
		return assignSet(&o.RejectedByDrivers, u.Value)
	case models.FieldOfferedDriverIDs:
		if del {
			o.OfferedDriverIDs = nil
			return nil
		}
		return assignSet(&o.OfferedDriverIDs, u.Value)
	case models.FieldCurrentOfferedDriver:
		if del {
			o.CurrentOfferedDriver = nil
			return nil
		}
		v, ok := u.Value.(*models.OfferHolder)
		if !ok {
			return typeErr(u.Value)
		}
		o.CurrentOfferedDriver = v
	case models.FieldAssignmentTimeout:
		if del {
			o.AssignmentTimeout = nil
			return nil
		}
		t, err := timeValue(u.Value, now)
		if err != nil {
			return err
		}
		o.AssignmentTimeout = &t
	case models.FieldAssignedDriverID:
		if del {
			o.AssignedDriverID = ""
			return nil
		}
		return assign(&o.AssignedDriverID, u.Value)
	case models.FieldNotificationSentToAdmin:
		if del {
			o.NotificationSentToAdmin = nil
			return nil
		}
		b, ok := u.Value.(bool)
		if !ok {
			return typeErr(u.Value)
		}
		o.NotificationSentToAdmin = &b
	case models.FieldUpdatedAt:
		if del {
			o.UpdatedAt = time.Time{}
			return nil
		}
		t, err := timeValue(u.Value, now)
		if err != nil {
			return err
		}
		o.UpdatedAt = t
	default:
		return fmt.Errorf("unsupported field")
	}
	return nil
}

// ApplyDriver applies updates to a driver document in place.
func ApplyDriver(d *models.Driver, updates []Update) error {
	for _, u := range updates {
		_, del := u.Value.(deleteField)
		switch u.Field {
		case models.FieldCurrentOffer:
			if del {
				d.CurrentOffer = nil
				continue
			}
			v, ok := u.Value.(*models.DriverOffer)
			if !ok {
				return fmt.Errorf("driver %s field %s: %w", d.ID, u.Field, typeErr(u.Value))
			}
			d.CurrentOffer = v
		case models.FieldIsAvailable, models.FieldIsOnline:
			b, ok := u.Value.(bool)
			if !ok {
				return fmt.Errorf("driver %s field %s: %w", d.ID, u.Field, typeErr(u.Value))
			}
			if u.Field == models.FieldIsAvailable {
				d.IsAvailable = b
			} else {
				d.IsOnline = b
			}
		default:
			return fmt.Errorf("driver %s field %s: unsupported field", d.ID, u.Field)
		}
	}
	return nil
}

func assign(dst *string, v any) error {
	s, ok := v.(string)
	if !ok {
		return typeErr(v)
	}
	*dst = s
	return nil
}

// assignSet handles both a plain replacement and an ArrayUnion.
func assignSet(dst *[]string, v any) error {
	switch val := v.(type) {
	case []string:
		*dst = append([]string(nil), val...)
	case arrayUnion:
		for _, id := range val {
			if !contains(*dst, id) {
				*dst = append(*dst, id)
			}
		}
	default:
		return typeErr(v)
	}
	return nil
}

func timeValue(v any, now time.Time) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case serverTimestamp:
		return now, nil
	default:
		return time.Time{}, typeErr(v)
	}
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func typeErr(v any) error { return fmt.Errorf("unexpected value type %T", v) }
