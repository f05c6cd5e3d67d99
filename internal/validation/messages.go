package validation

import (
	"fmt"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

// {0} is the field name, {1} the rule parameter. Placeholders must appear in
// that order inside each text.
var messages = map[string]map[string]string{
	"ar": {
		"required":    "الحقل {0} مطلوب",
		"min":         "الحقل {0} قصير جداً، الحد الأدنى {1}",
		"max":         "الحقل {0} طويل جداً، الحد الأقصى {1}",
		"gt":          "الحقل {0} يجب أن يكون أكبر من {1}",
		"lte":         "الحقل {0} كبير جداً، الحد الأقصى {1}",
		"url":         "الحقل {0} يجب أن يكون رابطاً صالحاً",
		"person_name": "الاسم يحتوي على رموز غير صالحة",
		"iraqi_phone": "رقم الهاتف غير صحيح",
		"uuid_v4":     "معرف المنتج غير صالح",
		"email_shape": "البريد الإلكتروني غير صالح",
		"type":        "نوع القيمة في الحقل {0} غير صحيح",
		"int":         "الحقل {0} يجب أن يكون عدداً صحيحاً",
		"invalid":     "البيانات المرسلة غير صالحة",
		"max_total":   "قيمة الطلب تتجاوز الحد المسموح",
	},
	"en": {
		"required":    "{0} is required",
		"min":         "{0} must be at least {1}",
		"max":         "{0} must be at most {1}",
		"gt":          "{0} must be greater than {1}",
		"lte":         "{0} must be at most {1}",
		"url":         "{0} must be a valid URL",
		"person_name": "name may only contain Arabic or Latin letters and spaces",
		"iraqi_phone": "phone must be a valid Iraqi mobile number",
		"uuid_v4":     "{0} must be a version 4 UUID",
		"email_shape": "{0} must be a valid email address",
		"type":        "{0} has the wrong type",
		"int":         "{0} must be a whole number",
		"invalid":     "request body is invalid",
		"max_total":   "order total exceeds the allowed maximum",
	},
}

// Tags that come from struct tags; the rest are only used by this package
// and the order pipeline.
var validatorTags = []string{"required", "min", "max", "gt", "lte", "url", "person_name", "iraqi_phone", "uuid_v4", "email_shape"}

func registerMessages(v *validator.Validate, trans ut.Translator, locale string) error {
	texts, ok := messages[locale]
	if !ok {
		return fmt.Errorf("no messages for locale %q", locale)
	}
	for _, tag := range validatorTags {
		text := texts[tag]
		err := v.RegisterTranslation(tag, trans,
			func(t ut.Translator) error { return t.Add(tag, text, true) },
			func(t ut.Translator, fe validator.FieldError) string {
				msg, err := t.T(fe.Tag(), fe.Field(), fe.Param())
				if err != nil {
					return fe.Error()
				}
				return msg
			},
		)
		if err != nil {
			return fmt.Errorf("register message %s: %w", tag, err)
		}
	}
	for _, key := range []string{"type", "int", "invalid", "max_total"} {
		if err := trans.Add(key, texts[key], true); err != nil {
			return fmt.Errorf("register message %s: %w", key, err)
		}
	}
	return nil
}

// Message returns the localized text for a rule that is not tied to a
// struct tag, such as "max_total".
func (v *Validator) Message(rule, field, param string) string {
	return v.message(rule, field, param)
}
