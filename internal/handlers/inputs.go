package handlers

import (
	"math"
	"strconv"
	"strings"

	"github.com/exambook/apiserver/internal/services"
	"github.com/exambook/apiserver/internal/validation"
	"github.com/exambook/apiserver/types"
)

type registerForm struct {
	Name     string `json:"name" validate:"required,min=3"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"required,phone"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type forgotForm struct {
	Email string `json:"email" validate:"required,email"`
}

type resetForm struct {
	NewPassword string `json:"newPassword" validate:"required,min=8"`
}

type profileForm struct {
	Name  *string `json:"name" validate:"omitnil,min=3"`
	Email *string `json:"email" validate:"omitnil,email"`
	Phone *string `json:"phone" validate:"omitnil,phone"`
}

type contactForm struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Message string `json:"message" validate:"required,max=5000"`
}

type bookForm struct {
	Title       string   `json:"title" validate:"required"`
	Author      string   `json:"author" validate:"required"`
	Description string   `json:"description" validate:"max=5000"`
	ExamType    string   `json:"examType" validate:"max=100"`
	Price       *float64 `json:"price" validate:"required,gt=0"`
	Condition   string   `json:"condition" validate:"omitempty,oneof=new used"`
}

type bookPatchForm struct {
	Title       *string  `json:"title" validate:"omitnil,required"`
	Author      *string  `json:"author" validate:"omitnil,required"`
	Description *string  `json:"description" validate:"omitnil,max=5000"`
	ExamType    *string  `json:"examType" validate:"omitnil,max=100"`
	Price       *float64 `json:"price" validate:"omitnil,gt=0"`
	Condition   *string  `json:"condition" validate:"omitnil,oneof=new used"`
}

type coordinatesForm struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

func parseRegister(body requestBody) (services.RegisterInput, validation.FieldErrors) {
	form := registerForm{
		Name:     body.get("name"),
		Email:    body.get("email"),
		Phone:    body.get("phone"),
		Password: body.fields["password"],
	}
	if errs := validation.Struct(form); errs != nil {
		return services.RegisterInput{}, errs
	}
	return services.RegisterInput(form), nil
}

func parseLogin(body requestBody) (loginForm, validation.FieldErrors) {
	form := loginForm{Email: body.get("email"), Password: body.fields["password"]}
	return form, validation.Struct(form)
}

func parseProfile(body requestBody) (services.ProfilePatch, validation.FieldErrors) {
	form := profileForm{
		Name:  body.optional("name"),
		Email: body.optional("email"),
		Phone: body.optional("phone"),
	}
	if errs := validation.Struct(form); errs != nil {
		return services.ProfilePatch{}, errs
	}
	return services.ProfilePatch(form), nil
}

func parseContact(body requestBody) (services.ContactInput, validation.FieldErrors) {
	form := contactForm{
		Name:    body.get("name"),
		Email:   body.get("email"),
		Message: body.get("message"),
	}
	if errs := validation.Struct(form); errs != nil {
		return services.ContactInput{}, errs
	}
	return services.ContactInput(form), nil
}

func parseBookInput(body requestBody) (services.BookInput, validation.FieldErrors) {
	numberErrs := validation.FieldErrors{}
	form := bookForm{
		Title:       body.get("title"),
		Author:      body.get("author"),
		Description: body.get("description"),
		ExamType:    body.get("examType"),
		Price:       parseNumber(body, "price", numberErrs),
		Condition:   strings.ToLower(body.get("condition")),
	}

	errs := validation.Struct(form)
	if errs == nil {
		errs = validation.FieldErrors{}
	}
	for field, messages := range numberErrs {
		errs[field] = messages
	}
	location, locErrs := parseLocation(body)
	errs.Merge(locErrs)
	if !errs.Empty() {
		return services.BookInput{}, errs
	}

	return services.BookInput{
		Title:       form.Title,
		Author:      form.Author,
		Description: form.Description,
		ExamType:    form.ExamType,
		Price:       *form.Price,
		Condition:   form.Condition,
		Location:    location,
	}, nil
}

func parseBookPatch(body requestBody) (services.BookPatch, validation.FieldErrors) {
	numberErrs := validation.FieldErrors{}
	form := bookPatchForm{
		Title:       body.optional("title"),
		Author:      body.optional("author"),
		Description: body.optional("description"),
		ExamType:    body.optional("examType"),
		Price:       parseNumber(body, "price", numberErrs),
		Condition:   body.optional("condition"),
	}
	if form.Condition != nil {
		lowered := strings.ToLower(*form.Condition)
		form.Condition = &lowered
	}

	errs := validation.Struct(form)
	if errs == nil {
		errs = validation.FieldErrors{}
	}
	for field, messages := range numberErrs {
		errs[field] = messages
	}
	location, locErrs := parseLocation(body)
	errs.Merge(locErrs)
	if !errs.Empty() {
		return services.BookPatch{}, errs
	}

	return services.BookPatch{
		Title:       form.Title,
		Author:      form.Author,
		Description: form.Description,
		ExamType:    form.ExamType,
		Price:       form.Price,
		Condition:   form.Condition,
		Location:    location,
	}, nil
}

// parseLocation reads either a JSON "location" object or flat latitude and
// longitude fields. Both coordinates must be present together.
func parseLocation(body requestBody) (*types.Coordinates, validation.FieldErrors) {
	lat, lng := body.get("latitude"), body.get("longitude")
	if raw := body.get("location"); raw != "" {
		nested, err := readJSON(strings.NewReader(raw))
		if err != nil {
			return nil, validation.FieldErrors{"location": {"Invalid location"}}
		}
		lat, lng = nested.get("latitude"), nested.get("longitude")
	}

	if lat == "" && lng == "" {
		return nil, nil
	}
	if lat == "" || lng == "" {
		return nil, validation.FieldErrors{"location": {"Both latitude and longitude are required"}}
	}

	errs := validation.FieldErrors{}
	latitude, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		errs.Add("latitude", "Invalid latitude")
	}
	longitude, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		errs.Add("longitude", "Invalid longitude")
	}
	if !errs.Empty() {
		return nil, errs
	}

	if rangeErrs := validation.Struct(coordinatesForm{Latitude: latitude, Longitude: longitude}); rangeErrs != nil {
		return nil, rangeErrs
	}
	return &types.Coordinates{Latitude: latitude, Longitude: longitude}, nil
}

// parseNumber returns nil for an absent or empty field and records an
// error for one that is not numeric.
func parseNumber(body requestBody, key string, errs validation.FieldErrors) *float64 {
	raw := body.get(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		errs.Add(key, strings.ToUpper(key[:1])+key[1:]+" must be a number")
		return nil
	}
	return &v
}
