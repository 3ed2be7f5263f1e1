package fields

// noise holds activity, messaging, tracking and audit bookkeeping fields.
// API consumers never see them while noise suppression is on.
var noise = map[string]bool{
	"message_ids":                   true,
	"my_activity_date_deadline":     true,
	"message_follower_ids":          true,
	"message_partner_ids":           true,
	"message_attachment_count":      true,
	"message_unread":                true,
	"message_unread_counter":        true,
	"message_needaction":            true,
	"message_needaction_counter":    true,
	"message_has_error":             true,
	"message_has_error_counter":     true,
	"message_has_sms_error":         true,
	"message_is_follower":           true,
	"message_main_attachment_id":    true,
	"message_notify":                true,
	"message_subtype_id":            true,
	"website_message_ids":           true,
	"activity_ids":                  true,
	"activity_state":                true,
	"activity_user_id":              true,
	"activity_type_id":              true,
	"activity_date_deadline":        true,
	"activity_summary":              true,
	"activity_exception_decoration": true,
	"activity_exception_icon":       true,
	"activity_calendar_event_id":    true,
	"activity_type_icon":            true,
	"duration_tracking":             true,
	"display_name":                  true,
	"Record_count":                  true,
	FieldCreateDate:                 true,
	"create_uid":                    true,
	FieldWriteDate:                  true,
	"write_uid":                     true,
}

// IsNoise returns true if the field is in the noise set
func IsNoise(name string) bool {
	return noise[name]
}
