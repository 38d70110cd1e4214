package main

import (
	"time"

	"lifeline/internal/apitest"
	"lifeline/internal/domain"
)

const demoPassword = "lifeline123"

// seed fills the backend with a handful of accounts and requests so the CLI
// has something to show.
func seed(b *apitest.Backend) {
	b.AddUser(domain.User{Email: "admin@lifeline.test", Name: "Ayesha Rahman", Role: domain.UserRoleAdmin, District: "Dhaka", Upazila: "Gulshan"}, demoPassword)
	b.AddUser(domain.User{Email: "volunteer@lifeline.test", Name: "Nadia Islam", Role: domain.UserRoleVolunteer, District: "Dhaka", Upazila: "Mirpur"}, demoPassword)
	donor := b.AddUser(domain.User{Email: "donor@lifeline.test", Name: "Rafi Hasan", BloodGroup: "O+", District: "Dhaka", Upazila: "Dhanmondi"}, demoPassword)
	b.AddUser(domain.User{Email: "sumi@lifeline.test", Name: "Sumi Akter", BloodGroup: "B+", District: "Khulna", Upazila: "Sonadanga"}, demoPassword)
	b.AddUser(domain.User{Email: "tanvir@lifeline.test", Name: "Tanvir Ahmed", BloodGroup: "O+", District: "Dhaka", Upazila: "Uttara", Status: domain.UserStatusBlocked}, demoPassword)
	requester := b.AddUser(domain.User{Email: "karim@lifeline.test", Name: "Karim Uddin", BloodGroup: "A+", District: "Chattogram", Upazila: "Panchlaish"}, demoPassword)

	tomorrow := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	nextWeek := time.Now().AddDate(0, 0, 7).Format("2006-01-02")
	requests := []domain.DonationRequest{
		{RecipientName: "Shahana Begum", District: "Dhaka", Upazila: "Dhanmondi", Hospital: "Square Hospital", BloodGroup: "O+", DonationDate: tomorrow, DonationTime: "10:00"},
		{RecipientName: "Milon Das", District: "Dhaka", Upazila: "Shahbag", Hospital: "Dhaka Medical College", BloodGroup: "B-", DonationDate: tomorrow, DonationTime: "15:30"},
		{RecipientName: "Rokeya Khatun", District: "Chattogram", Upazila: "Panchlaish", Hospital: "Chattogram Medical College", BloodGroup: "A+", DonationDate: nextWeek, DonationTime: "09:00"},
		{RecipientName: "Jamal Hossain", District: "Dhaka", Upazila: "Mohakhali", Hospital: "BIRDEM", BloodGroup: "O+", DonationDate: nextWeek, DonationTime: "11:00", Status: domain.RequestStatusInProgress, DonorID: donor.ID, DonorName: donor.Name, DonorEmail: donor.Email},
		{RecipientName: "Parvin Sultana", District: "Khulna", Upazila: "Sonadanga", Hospital: "Khulna Medical College", BloodGroup: "AB+", DonationDate: tomorrow, DonationTime: "08:00", Status: domain.RequestStatusDone},
	}
	for i, r := range requests {
		r.RequesterID = requester.ID
		r.CreatedAt = time.Now().Add(-time.Duration(len(requests)-i) * time.Hour)
		b.AddRequest(r)
	}

	b.Notify(donor.ID, domain.Notification{
		Type:    domain.NotificationDonationRequest,
		Title:   "New O+ request",
		Message: "Shahana Begum needs blood at Square Hospital",
	})
}
